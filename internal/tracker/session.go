package tracker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrNotLoggedIn     = errors.New("no driver logged in")
	ErrAlreadyLoggedIn = errors.New("a driver is already logged in")
	ErrInvalidLogin    = errors.New("invalid login")
	ErrStopped         = errors.New("tracker stopped")
	ErrEmptyIssue      = errors.New("issue must not be empty")
	ErrUnknownAction   = errors.New("unknown journey action")
)

var unitPattern = regexp.MustCompile(`^DT-\d+$`)

// LoginRequest is what a driver submits to start a session.
type LoginRequest struct {
	Driver string `json:"driver" validate:"required,min=2,max=50"`
	Unit   string `json:"unit" validate:"required,unit"`
}

type Session struct {
	ID        string    `json:"sessionId"`
	Driver    string    `json:"driver"`
	Unit      string    `json:"unit"`
	Year      string    `json:"year"`
	StartedAt time.Time `json:"startedAt"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		return unitPattern.MatchString(fl.Field().String())
	})
	return v
}

// normalizeLogin trims, validates and sanitises a login request.
func normalizeLogin(v *validator.Validate, req LoginRequest) (LoginRequest, error) {
	req.Driver = strings.TrimSpace(req.Driver)
	req.Unit = strings.TrimSpace(req.Unit)
	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return req, fmt.Errorf("%w: %s failed %s", ErrInvalidLogin, strings.ToLower(fe.Field()), fe.Tag())
		}
		return req, fmt.Errorf("%w: %w", ErrInvalidLogin, err)
	}
	req.Driver = strings.NewReplacer("<", "", ">", "").Replace(req.Driver)
	return req, nil
}

// newSessionID returns DT_<epoch ms>_<9 random characters>.
func newSessionID(now time.Time) string {
	r := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("DT_%d_%s", now.UnixMilli(), r[:9])
}
