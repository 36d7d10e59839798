package domain

import "strconv"

// BookID identifies a book in the similarity index.
type BookID int64

// String formats the id in base 10.
func (id BookID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseBookID parses a base-10 book id.
func ParseBookID(s string) (BookID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return BookID(n), nil
}

// TaggedToken is a token with its part-of-speech tag.
type TaggedToken struct {
	Token string
	Tag   string
}
