// Package books builds a user's reading library (TBR, reading, finished
// shelves with ratings) from reconciled list and review events.
package books

// Status is a reading-status category.
type Status string

const (
	StatusTBR      Status = "tbr"
	StatusReading  Status = "reading"
	StatusFinished Status = "finished"
)

// ReadingStatus is the single resolved status of a book for its owning author.
type ReadingStatus struct {
	Status    Status   `json:"status"`
	DateAdded int64    `json:"date_added"` // CreatedAt of the winning list event
	Rating    *float64 `json:"rating,omitempty"`
}

// Book is a library entry keyed by ISBN. Title/author/cover/description are
// owned by the bibliographic enrichment collaborator and may be empty until
// joined in.
type Book struct {
	Isbn        string         `json:"isbn"`
	Title       string         `json:"title,omitempty"`
	Author      string         `json:"author,omitempty"`
	CoverURL    string         `json:"cover_url,omitempty"`
	Description string         `json:"description,omitempty"`
	Reading     *ReadingStatus `json:"reading,omitempty"`
}

// Library holds one author's shelves after reconciliation. An ISBN appears
// on at most one shelf.
type Library struct {
	TBR      []Book `json:"tbr"`
	Reading  []Book `json:"reading"`
	Finished []Book `json:"finished"`
}

// Size returns the total number of books across all shelves.
func (l Library) Size() int {
	return len(l.TBR) + len(l.Reading) + len(l.Finished)
}
