package models

import "time"

// KnowledgeFile is an uploaded document in the persona knowledge catalog.
// The title doubles as a human-addressable key for tool lookups.
type KnowledgeFile struct {
	ID         string    `bson:"_id" json:"id"`
	Title      string    `bson:"title" json:"title"`
	Content    string    `bson:"content" json:"content"`
	Size       int64     `bson:"size" json:"size"`
	UploadedAt time.Time `bson:"uploadedAt" json:"uploaded_at"`
}

// KnowledgeFileInfo is catalog metadata without the content payload.
type KnowledgeFileInfo struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Info strips the content from a knowledge file for catalog listings.
func (k *KnowledgeFile) Info() KnowledgeFileInfo {
	return KnowledgeFileInfo{
		ID:         k.ID,
		Title:      k.Title,
		Size:       k.Size,
		UploadedAt: k.UploadedAt,
	}
}

// KnowledgeSearchResult is one line-level match from search_knowledge,
// carrying the matched line plus surrounding context.
type KnowledgeSearchResult struct {
	FileTitle string `json:"file_title"`
	Line      int    `json:"line"`
	Snippet   string `json:"snippet"`
}
