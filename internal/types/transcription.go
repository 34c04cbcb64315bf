package types

// AWSTranscript represents the JSON document Amazon Transcribe writes to S3.
type AWSTranscript struct {
	JobName string `json:"jobName"`
	Results struct {
		LanguageCode string `json:"language_code,omitempty"`
		Transcripts  []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		Items []Item `json:"items,omitempty"`
	} `json:"results"`
	Status string `json:"status"`
}

// Item represents individual words/items in the transcription
type Item struct {
	StartTime    string        `json:"start_time,omitempty"`
	EndTime      string        `json:"end_time,omitempty"`
	Type         string        `json:"type"`
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative represents word alternatives
type Alternative struct {
	Confidence string `json:"confidence"`
	Content    string `json:"content"`
}

// Word is a single word with timing, present once alignment ran.
type Word struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// Segment is one time-bounded piece of transcript text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// TranscriptionResult is the success shape of a job.
//
// DetectedLanguage is only populated when the caller asked for auto-detection;
// with an explicit language it is always null and UsedLanguage carries the
// caller's value, whatever the engine detected.
type TranscriptionResult struct {
	Text             string    `json:"text"`
	Segments         []Segment `json:"segments"`
	DetectedLanguage *string   `json:"detected_language"`
	UsedLanguage     string    `json:"used_language"`
	ModelUsed        string    `json:"model_used"`
	ComputeProfile   string    `json:"compute_profile"`
	DeviceUsed       string    `json:"device_used"`
	ProcessedFile    string    `json:"processed_file"`
}

// ErrorResult is the failure shape of a job.
type ErrorResult struct {
	Error string `json:"error"`
}
