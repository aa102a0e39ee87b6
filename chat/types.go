package chat

// Turn is one answered question in a conversation.
type Turn struct {
	Question string
	Answer   string
}

type RelatedDocument struct {
	ID    string
	Title string
	Path  string
}

type DocumentInsight struct {
	ChunkCount       int
	Folders          []string
	RelatedDocuments []RelatedDocument
}

type Source struct {
	DocumentID string
	Title      string
	Path       string
	Snippet    string
	Score      float64
	Insight    DocumentInsight
}

type Response struct {
	Answer  string
	Sources []Source
}
