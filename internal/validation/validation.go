// Package validation gates raw exchange records before analysis and pattern
// matches before persistence.
//
// Each check runs in two passes. The `validate` struct tags hold required
// fields and hard constraints; any failure there makes the record invalid
// and the advisory pass is skipped. The `warn` tags hold range and format
// checks that only produce warnings, so unknown future status codes still
// flow through.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"SnipeRadar/internal/domain/models"
)

// MinAdvanceHours is the minimum lead time for an advance-opportunity match.
const MinAdvanceHours = 3.5

// MaxBatchSize is the analysis request size above which a warning is raised.
const MaxBatchSize = 1000

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{3,20}$`)

// Result is the outcome of a validation call.
type Result struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var (
	strict   = newValidator("validate")
	advisory = newValidator("warn")
)

func newValidator(tag string) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName(tag)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("symbolfmt", func(fl validator.FieldLevel) bool {
		return symbolPattern.MatchString(fl.Field().String())
	})
	return v
}

func check(s interface{}) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}
	res.Errors = messages(strict.Struct(s))
	if len(res.Errors) > 0 {
		return res
	}
	res.Warnings = messages(advisory.Struct(s))
	res.IsValid = true
	return res
}

func (r *Result) fail(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.IsValid = false
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateStruct runs the tag checks on any struct, such as a config
// submitted over the API.
func ValidateStruct(s interface{}) Result {
	return check(s)
}

// ValidateSymbolEntry checks a status snapshot.
func ValidateSymbolEntry(e models.SymbolEntry) Result {
	return check(e)
}

// ValidateCalendarEntry checks an announced listing.
func ValidateCalendarEntry(e models.CalendarEntry) Result {
	return check(e)
}

// ValidatePatternMatch checks an analyzer finding before it reaches the bridge.
func ValidatePatternMatch(m models.PatternMatch) Result {
	res := check(m)
	if !res.IsValid {
		return res
	}
	switch m.PatternType {
	case models.PatternLaunchSequence:
		if m.AdvanceNoticeHours < MinAdvanceHours {
			res.fail("advanceNoticeHours %.2f is below the %.1fh minimum for %s", m.AdvanceNoticeHours, MinAdvanceHours, m.PatternType)
		}
	case models.PatternReadyState:
		if m.AdvanceNoticeHours != 0 {
			res.warn("advanceNoticeHours should be 0 for %s", m.PatternType)
		}
	}
	return res
}

// ValidateAnalysisRequest checks an analysis request and summarizes the
// entries that will be skipped.
func ValidateAnalysisRequest(r models.AnalysisRequest) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}
	if len(r.Symbols) == 0 && len(r.Calendar) == 0 {
		res.fail("at least one symbol or calendar entry is required")
		return res
	}
	res = check(r)
	if !res.IsValid {
		return res
	}

	total := len(r.Symbols) + len(r.Calendar)
	if total > MaxBatchSize {
		res.warn("batch of %d entries exceeds recommended size %d", total, MaxBatchSize)
	}
	if bad := countInvalid(r.Symbols, ValidateSymbolEntry); bad > 0 {
		res.warn("%d of %d symbol entries are invalid and will be skipped", bad, len(r.Symbols))
	}
	if bad := countInvalid(r.Calendar, ValidateCalendarEntry); bad > 0 {
		res.warn("%d of %d calendar entries are invalid and will be skipped", bad, len(r.Calendar))
	}
	return res
}

func countInvalid[T any](items []T, fn func(T) Result) int {
	n := 0
	for _, it := range items {
		if !fn(it).IsValid {
			n++
		}
	}
	return n
}

func messages(err error) []string {
	if err == nil {
		return []string{}
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "symbolfmt":
		return fmt.Sprintf("%s %q does not match %s", field, fe.Value(), symbolPattern.String())
	case "min", "gte":
		return fmt.Sprintf("%s %v is below %s", field, deref(fe.Value()), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s %v is above %s", field, deref(fe.Value()), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func deref(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return v
}
