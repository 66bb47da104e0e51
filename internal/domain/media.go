package domain

import "time"

// Media is a downloaded audio file ready for transcription.
type Media struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// Segment is a fixed-duration slice of a Media.
type Segment struct {
	Index int
	Start time.Duration
	Len   time.Duration
}
