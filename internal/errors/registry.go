package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	DocURL   string
}

// Registered codes.
const (
	CodeInternal = "T000"

	CodeNotSerializable = "T101"
	CodeInvalidArgument = "T102"
	CodeInvalidName     = "T103"

	CodeTriggerNotFound    = "T201"
	CodeControllerNotFound = "T202"

	CodeTriggerFailed      = "T301"
	CodeTriggerPanicked    = "T302"
	CodeTriggerConflict    = "T303"
	CodeControllerPanicked = "T304"

	CodeNotRunning  = "T401"
	CodeStoreClosed = "T402"

	CodeMalformedFrame  = "T501"
	CodeUnexpectedFrame = "T502"
	CodeFrameTooLarge   = "T503"
	CodeTransportClosed = "T504"
	CodeClientTooSlow   = "T505"

	CodeInvalidConfig  = "T601"
	CodeConfigNotFound = "T602"
	CodeConfigParse    = "T603"
)

const docBase = "https://tether.vango.dev/docs/errors/"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	CodeInternal: {CategoryInternal, "Internal error", docBase + CodeInternal},

	CodeNotSerializable: {CategoryValidation, "Value cannot be serialized", docBase + CodeNotSerializable},
	CodeInvalidArgument: {CategoryValidation, "Invalid trigger argument", docBase + CodeInvalidArgument},
	CodeInvalidName:     {CategoryValidation, "Invalid trigger name", docBase + CodeInvalidName},

	CodeTriggerNotFound:    {CategoryLookup, "Trigger not found", docBase + CodeTriggerNotFound},
	CodeControllerNotFound: {CategoryLookup, "Controller not found", docBase + CodeControllerNotFound},

	CodeTriggerFailed:      {CategoryTrigger, "Trigger failed", docBase + CodeTriggerFailed},
	CodeTriggerPanicked:    {CategoryTrigger, "Trigger panicked", docBase + CodeTriggerPanicked},
	CodeTriggerConflict:    {CategoryTrigger, "Trigger already registered", docBase + CodeTriggerConflict},
	CodeControllerPanicked: {CategoryTrigger, "Controller panicked", docBase + CodeControllerPanicked},

	CodeNotRunning:  {CategoryLifecycle, "Server is not running", docBase + CodeNotRunning},
	CodeStoreClosed: {CategoryLifecycle, "State store is closed", docBase + CodeStoreClosed},

	CodeMalformedFrame:  {CategoryProtocol, "Malformed frame", docBase + CodeMalformedFrame},
	CodeUnexpectedFrame: {CategoryProtocol, "Unexpected frame type", docBase + CodeUnexpectedFrame},
	CodeFrameTooLarge:   {CategoryProtocol, "Frame too large", docBase + CodeFrameTooLarge},
	CodeTransportClosed: {CategoryProtocol, "Transport closed", docBase + CodeTransportClosed},
	CodeClientTooSlow:   {CategoryProtocol, "Client too slow", docBase + CodeClientTooSlow},

	CodeInvalidConfig:  {CategoryConfig, "Invalid configuration", docBase + CodeInvalidConfig},
	CodeConfigNotFound: {CategoryConfig, "Configuration file not found", docBase + CodeConfigNotFound},
	CodeConfigParse:    {CategoryConfig, "Configuration file cannot be parsed", docBase + CodeConfigParse},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
