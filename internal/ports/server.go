package ports

// Server is a long-running front end of the pipeline
type Server interface {
	// Start begins serving in the background
	Start() error

	// Stop shuts the server down, waiting for in-flight requests
	Stop() error
}
