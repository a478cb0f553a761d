package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/intest/pkg/browser"
)

// Driver exposes the terminal's page-global state and entry points as
// explicit calls.
type Driver interface {
	CurrentWindowID(ctx context.Context) (string, error)
	WindowIndex(ctx context.Context) (int, error)
	InvokeMenu(ctx context.Context, code string) error
	ReadStatusBanner(ctx context.Context) ([]string, error)
	ButtonBar(ctx context.Context, windowID string) (map[string]string, error)
	GridCellClass(ctx context.Context, col, row int) (string, error)
	GridColumnID(ctx context.Context, col int) (string, error)
	AlertButtonID(ctx context.Context) (string, error)
	SelectSidePage(ctx context.Context, windowIndex, selection int) error
	ShowProgress(ctx context.Context, label string) error
	NoLicenseShown(ctx context.Context) (bool, error)
	InstallErrorHook(ctx context.Context) error
	AppErrors(ctx context.Context) ([]string, error)
}

// NoLicenseText is the message the login page shows when every license
// slot is taken.
const NoLicenseText = "Leider sind keine Lizenzen mehr frei."

// PageDriver implements Driver by evaluating scripts in the page.
type PageDriver struct {
	page browser.BrowserSession
}

// NewPageDriver creates a driver for page.
func NewPageDriver(page browser.BrowserSession) *PageDriver {
	return &PageDriver{page: page}
}

var _ Driver = (*PageDriver)(nil)

// CurrentWindowID returns the id of the active window, "" on the main menu.
func (d *PageDriver) CurrentWindowID(ctx context.Context) (string, error) {
	var id string
	err := d.page.Evaluate(ctx, `String(window.windowID || "")`, &id)
	return id, err
}

// WindowIndex returns the index of the active window.
func (d *PageDriver) WindowIndex(ctx context.Context) (int, error) {
	var idx int
	err := d.page.Evaluate(ctx, `Number(window.windIdx || 0)`, &idx)
	return idx, err
}

// InvokeMenu calls the terminal's menu entry point.
func (d *PageDriver) InvokeMenu(ctx context.Context, code string) error {
	return d.page.Evaluate(ctx, fmt.Sprintf(`(window.programmaufruf(%s), true)`, jsString(code)), nil)
}

// ReadStatusBanner returns the banner lines.
func (d *PageDriver) ReadStatusBanner(ctx context.Context) ([]string, error) {
	var lines []string
	script := `(function () {
	var s = window.AppStatus;
	if (Array.isArray(s)) { return s.map(String); }
	return String(s || "").split("\n");
})()`
	if err := d.page.Evaluate(ctx, script, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// ButtonBar maps the badge label of every vertical button of windowID to
// its button id.
func (d *PageDriver) ButtonBar(ctx context.Context, windowID string) (map[string]string, error) {
	script := fmt.Sprintf(`(function (win) {
	var bar = window.Ext.getCmp(win + "butbar");
	var out = {};
	if (!bar) { return out; }
	bar.items.items.forEach(function (el) {
		out[String(el.cspConfig.badge).trim()] = String(el.cspConfig.idnr).trim();
	});
	return out;
})(%s)`, jsString(windowID))
	buttons := map[string]string{}
	if err := d.page.Evaluate(ctx, script, &buttons); err != nil {
		return nil, err
	}
	return buttons, nil
}

// GridCellClass returns the class attribute of the grid cell at col/row
// of the active window's grid, or "" when there is no such cell.
func (d *PageDriver) GridCellClass(ctx context.Context, col, row int) (string, error) {
	script := fmt.Sprintf(`(function (col, row) {
	try {
		var g = window.grid[window.windIdx];
		return g.view.el.dom.children[2].children[row].children[0].children[0].children[col].className || "";
	} catch (e) {
		return "";
	}
})(%d, %d)`, col, row)
	var class string
	err := d.page.Evaluate(ctx, script, &class)
	return class, err
}

// GridColumnID returns the component id of header column col, or "".
func (d *PageDriver) GridColumnID(ctx context.Context, col int) (string, error) {
	script := fmt.Sprintf(`(function (col) {
	try {
		return window.grid[window.windIdx].columns[col].id || "";
	} catch (e) {
		return "";
	}
})(%d)`, col)
	var id string
	err := d.page.Evaluate(ctx, script, &id)
	return id, err
}

// AlertButtonID returns the element id of the shown message box's button.
func (d *PageDriver) AlertButtonID(ctx context.Context) (string, error) {
	script := `(function () {
	try {
		return window.Ext.Msg.down("button").el.dom.id || "";
	} catch (e) {
		return "";
	}
})()`
	var id string
	err := d.page.Evaluate(ctx, script, &id)
	return id, err
}

// SelectSidePage selects entry selection of the side menu picker.
func (d *PageDriver) SelectSidePage(ctx context.Context, windowIndex, selection int) error {
	script := fmt.Sprintf(`(window.Ext.getCmp("SeitenMenue" + %d).picker.setSelection(%d), true)`, windowIndex, selection)
	return d.page.Evaluate(ctx, script, nil)
}

// ShowProgress shows label in a floating panel, creating it on first use.
func (d *PageDriver) ShowProgress(ctx context.Context, label string) error {
	script := fmt.Sprintf(`(function (label) {
	var span = document.getElementById("integration-test-label");
	if (span) { span.textContent = label; return true; }
	var html = '<div style="display:flex;justify-content:center;align-items:center;">' +
		'<span style="font-size:30px;flex: 0 0 120px" id="integration-test-label"></span></div>';
	if (window.Ext && window.Ext.create) {
		var panel = window.Ext.create("Ext.Panel", {
			floating: true, alwaysOnTop: true, renderTo: document.body, html: html,
			height: 50, width: 200, id: "integration-test-container"
		});
		panel.showAt(window.innerWidth - 200, 50);
	} else {
		var div = document.createElement("div");
		div.id = "integration-test-container";
		div.style.cssText = "position:fixed;top:50px;right:0;width:200px;height:50px;z-index:99999;background:#fff";
		div.innerHTML = html;
		document.body.appendChild(div);
	}
	document.getElementById("integration-test-label").textContent = label;
	return true;
})(%s)`, jsString(label))
	return d.page.Evaluate(ctx, script, nil)
}

// NoLicenseShown reports whether the page shows NoLicenseText.
func (d *PageDriver) NoLicenseShown(ctx context.Context) (bool, error) {
	script := fmt.Sprintf(`Array.from(document.querySelectorAll("p")).some(function (el) { return el.textContent === %s; })`,
		jsString(NoLicenseText))
	var shown bool
	err := d.page.Evaluate(ctx, script, &shown)
	return shown, err
}

// InstallErrorHook wraps the terminal's error handler so application
// errors are collected for AppErrors. Installing twice is harmless.
func (d *PageDriver) InstallErrorHook(ctx context.Context) error {
	script := `(function () {
	if (window.__intestHooked) { return true; }
	window.__intestErrors = [];
	var original = window.FehlerJS;
	window.FehlerJS = function (e, m) {
		try { window.__intestErrors.push(String((e && e.message) || e)); } catch (ignored) {}
		if (typeof original === "function") { return original.apply(this, arguments); }
	};
	window.__intestHooked = true;
	return true;
})()`
	return d.page.Evaluate(ctx, script, nil)
}

// AppErrors drains the errors collected since the last call.
func (d *PageDriver) AppErrors(ctx context.Context) ([]string, error) {
	script := `(function () {
	var out = window.__intestErrors || [];
	window.__intestErrors = [];
	return out.map(String);
})()`
	var errs []string
	if err := d.page.Evaluate(ctx, script, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
