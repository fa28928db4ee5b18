package model

// ModelOption is one selectable entry of the model catalog.
type ModelOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ModelsResponse is the response of the catalog endpoint.
type ModelsResponse struct {
	Models []ModelOption `json:"models"`
}
