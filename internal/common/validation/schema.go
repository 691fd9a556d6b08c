// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"poppins-pipeline/internal/common/errors"
)

// emailQueueSchema guards the persisted contract producers must honor
// when enqueuing email work. Entries failing it go terminal without a
// gateway call.
const emailQueueSchema = `{
  "type": "object",
  "required": ["to", "templateData"],
  "properties": {
    "to": {"type": "string", "minLength": 3, "pattern": "@"},
    "subject": {"type": "string", "maxLength": 500},
    "template": {"type": "string", "maxLength": 100},
    "templateData": {"type": "object"},
    "attachment": {
      "type": "object",
      "required": ["filename", "content"],
      "properties": {
        "filename": {"type": "string", "minLength": 1},
        "contentType": {"type": "string"},
        "content": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var emailQueueLoader = gojsonschema.NewStringLoader(emailQueueSchema)

// ValidateEmailEntry checks a raw emailQueue document against the
// producer contract. Returns a non-retryable validation error with the
// collected schema violations.
func ValidateEmailEntry(doc []byte) error {
	result, err := gojsonschema.Validate(emailQueueLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("schema check failed: %v", err))
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return errors.NewValidationError(strings.Join(details, "; "))
}
