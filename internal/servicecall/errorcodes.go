package servicecall

import (
	"bufio"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed errorcodes.tsv
var errorCodeTable string

// ErrorCode describes a device result code.
type ErrorCode struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
}

// Severities assigned to error codes.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeveritySuccess = "success"
	SeverityInfo    = "info"
)

var errorCodes = mustParseErrorCodes(errorCodeTable)

// ErrorCodes returns the known result codes in ascending order.
func ErrorCodes() []ErrorCode {
	codes := make([]ErrorCode, 0, len(errorCodes))
	for _, c := range errorCodes {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })
	return codes
}

// LookupErrorCode returns the entry for code. Unknown codes still carry the
// category of their range.
func LookupErrorCode(code int) (ErrorCode, bool) {
	if c, ok := errorCodes[code]; ok {
		return c, true
	}
	return ErrorCode{
		Code:        code,
		Description: fmt.Sprintf("unknown error %d", code),
		Category:    errorCategory(code),
		Severity:    SeverityError,
	}, false
}

// Describe returns a human-readable message for a result code, empty for 0.
func Describe(code int) string {
	if code == 0 {
		return ""
	}
	c, _ := LookupErrorCode(code)
	return c.Description
}

func mustParseErrorCodes(table string) map[int]ErrorCode {
	codes, err := parseErrorCodes(table)
	if err != nil {
		panic(err)
	}
	return codes
}

// parseErrorCodes reads a tab-separated table whose first line is a header.
func parseErrorCodes(table string) (map[int]ErrorCode, error) {
	codes := make(map[int]ErrorCode)
	sc := bufio.NewScanner(strings.NewReader(table))
	sc.Scan()
	for line := 2; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		code, desc, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("servicecall: error code table line %d: missing description", line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil {
			return nil, fmt.Errorf("servicecall: error code table line %d: %w", line, err)
		}
		desc = strings.TrimSpace(desc)
		codes[n] = ErrorCode{Code: n, Description: desc, Category: errorCategory(n), Severity: errorSeverity(desc)}
	}
	return codes, sc.Err()
}

// errorCategory maps a code onto the subsystem its range belongs to.
func errorCategory(code int) string {
	switch {
	case code >= 312000 && code < 314000:
		return "upgrade"
	case code >= 314000 && code < 315000:
		return "flight"
	case code >= 315000 && code < 316000:
		return "communication"
	case code >= 316000 && code < 317000:
		return "battery"
	case code >= 317000 && code < 319000:
		return "media"
	case code >= 319000 && code < 321000:
		return "system"
	case code >= 321000 && code < 325000:
		return "flight"
	case code >= 325000 && code < 327000:
		return "network"
	case code >= 327000 && code < 329000:
		return "camera"
	case code >= 336000 && code < 339000:
		return "flight"
	case code >= 513000 && code < 514000:
		return "live"
	case code >= 514000 && code < 515000:
		return "dock"
	default:
		return "other"
	}
}

func errorSeverity(desc string) string {
	d := strings.ToLower(desc)
	switch {
	case containsAny(d, "failed", "abnormal", "error", "unable", "cannot", "invalid", "not supported"):
		return SeverityError
	case containsAny(d, "timeout", "try again", "busy", "later"):
		return SeverityWarning
	case containsAny(d, "success", "completed"):
		return SeveritySuccess
	default:
		return SeverityInfo
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
