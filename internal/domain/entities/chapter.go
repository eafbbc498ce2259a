package entities

// Chapter is one unit of manuscript text, supplied by the manuscript source.
type Chapter struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Ref returns a SourceRef pointing at the start of the chapter.
func (c Chapter) Ref() SourceRef {
	return SourceRef{
		ChapterID:    c.ID,
		ChapterTitle: c.Title,
		ChapterIndex: c.Index,
	}
}
