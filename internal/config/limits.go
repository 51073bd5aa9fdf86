package config

const (
	// MaxChatTitleLength is the maximum length for conversation titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (titles should be short and descriptive).
	MaxChatTitleLength = 255

	// MaxMessageBlocks bounds how many content blocks a single submitted
	// message may carry. Streaming can grow assistant messages past this;
	// the limit applies to client input only.
	MaxMessageBlocks = 64

	// MaxMessageTextLength bounds the total text of a submitted message.
	MaxMessageTextLength = 200_000
)
