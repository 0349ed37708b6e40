package domain

// Image is an image record from the external image API, cached per concept name.
type Image struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Collection  string `json:"boardName"`
}
