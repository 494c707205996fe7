package h1

// statusText holds reason phrases for the status codes this core's own
// tests and informational-response paths emit; any caller providing its
// own reason phrase bypasses this table entirely (spec.md §3 "subject
// ... optional reason phrase").
var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	103: "Early Hints",
	200: "OK",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	408: "Request Timeout",
	413: "Payload Too Large",
	414: "URI Too Long",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// DefaultReasonPhrase returns the standard reason phrase for code, or
// "Status" if none is known.
func DefaultReasonPhrase(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Status"
}
