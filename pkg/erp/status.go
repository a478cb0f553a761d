package erp

import (
	"fmt"
	"strconv"
	"strings"
)

// AppStatus is the session metadata the terminal shows in its status
// banner after login.
type AppStatus struct {
	UCI                 string `json:"uci"`
	Job                 int    `json:"job"`
	Device              string `json:"device"`
	Operator            string `json:"operator"`
	Version             string `json:"version"`
	Tenant              string `json:"tenant"`
	JobManagementActive bool   `json:"jobManagementActive"`
}

// ParseStatusBanner reads the banner lines. The first six lines are
// "label: value" pairs in a fixed order; the seventh reads
// "<label> aktiv" when job management is running.
func ParseStatusBanner(lines []string) (AppStatus, error) {
	if len(lines) < 7 {
		return AppStatus{}, fmt.Errorf("status banner has %d lines, want at least 7", len(lines))
	}
	var st AppStatus
	st.UCI = bannerValue(lines[0])
	jobText := bannerValue(lines[1])
	job, err := strconv.Atoi(jobText)
	if err != nil {
		return AppStatus{}, fmt.Errorf("status banner job %q is not a number", jobText)
	}
	st.Job = job
	st.Device = bannerValue(lines[2])
	st.Operator = bannerValue(lines[3])
	st.Version = bannerValue(lines[4])
	st.Tenant = bannerValue(lines[5])

	fields := strings.Fields(lines[6])
	st.JobManagementActive = len(fields) > 1 && fields[1] == "aktiv"
	return st, nil
}

func bannerValue(line string) string {
	_, value, found := strings.Cut(line, ": ")
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}
