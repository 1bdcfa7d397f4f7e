package internal

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator with the project specific tags registered.
//
//	slug:   "owner/name" with both parts non-empty
//	tagref: "refs/tags/<tag>" or a bare tag, but never another kind of ref
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
			owner, name, ok := strings.Cut(fl.Field().String(), "/")
			return ok && owner != "" && name != "" && !strings.Contains(name, "/")
		})
		_ = validate.RegisterValidation("tagref", func(fl validator.FieldLevel) bool {
			ref := fl.Field().String()
			if strings.HasPrefix(ref, "refs/") {
				return strings.HasPrefix(ref, "refs/tags/") && len(ref) > len("refs/tags/")
			}
			return ref != ""
		})
	})
	return validate
}

// NewYAMLDecoder creates a new YAML decoder with strict mode and validation enabled.
func NewYAMLDecoder(reader io.Reader, opts ...yaml.DecodeOption) *yaml.Decoder {
	return yaml.NewDecoder(reader,
		append(opts,
			yaml.Strict(),
			yaml.Validator(Validator()))...)
}

// NewYAMLEncoder creates a new YAML encoder with an indentation of 2 spaces.
func NewYAMLEncoder(writer io.Writer, opts ...yaml.EncodeOption) *yaml.Encoder {
	return yaml.NewEncoder(writer,
		append(opts, yaml.Indent(2))...)
}

// FormatDecodeError returns the pretty printed form of a YAML decoding error.
// The second return value is false if err is not a YAML error.
func FormatDecodeError(err error) (string, bool) {
	var yamlError yaml.Error
	if errors.As(err, &yamlError) {
		return yamlError.FormatError(false, true), true
	}
	return "", false
}

// ValidationSummary flattens validator errors into a single readable line.
func ValidationSummary(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(parts, "; "))
}
