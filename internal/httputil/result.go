package httputil

// FetchResult is the bookkeeping for one upstream request, recorded as a
// fetch run alongside the raw payload.
type FetchResult struct {
	Endpoint     string
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string // first parse error, for the audit row
	Body         []byte
	Error        error
}

// NoteParseErrors records skipped rows.
func (r *FetchResult) NoteParseErrors(errs []string) {
	r.ParseErrors += len(errs)
	if r.ParseError == "" && len(errs) > 0 {
		r.ParseError = errs[0]
	}
}
