package request

// SelectPipeline changes the pipeline selection. An empty id selects the
// default "no pipeline" option.
type SelectPipeline struct {
	ID string `json:"id"`
}

// CreateSession trades the UI access key for a session token.
type CreateSession struct {
	AccessKey string `json:"accessKey" validate:"required"`
}
