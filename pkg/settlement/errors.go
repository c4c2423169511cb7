package settlement

import (
	"errors"
	"fmt"

	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// RejectionError is a hard rejection of one settlement attempt. Nothing was
// moved when it is returned.
type RejectionError struct {
	Code   models.ReasonCode
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func reject(code models.ReasonCode, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// RejectionCode extracts the reason code of a rejection, if err is one.
func RejectionCode(err error) (models.ReasonCode, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Code, true
	}
	return "", false
}

// IsRejection reports whether err is a rejection carrying code.
func IsRejection(err error, code models.ReasonCode) bool {
	got, ok := RejectionCode(err)
	return ok && got == code
}
