package quota

// StatusCoder is implemented by AI provider adapter errors that carry enough
// structure to classify without string-matching a response body (spec.md §9
// redesign note). Implementations should return -1 when the error did not
// reach the HTTP layer (e.g. dial failure, context deadline).
type StatusCoder interface {
	StatusCode() int
	RetryAfterHeader() string
	Body() string
}

// AsProviderError extracts a ProviderError from err for model if err
// implements StatusCoder, otherwise it reports ok == false and the caller
// should treat the failure as transient.
func AsProviderError(model string, err error) (ProviderError, bool) {
	sc, ok := err.(StatusCoder)
	if !ok {
		return ProviderError{}, false
	}
	return ProviderError{
		StatusCode:       sc.StatusCode(),
		RetryAfterHeader: sc.RetryAfterHeader(),
		Body:             sc.Body(),
		Model:            model,
	}, true
}
