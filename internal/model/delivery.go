package model

// Delivery is the metadata.json handed to the external sender together with
// the delivered video.
type Delivery struct {
	TemplateID  string `json:"template_id"`
	EventName   string `json:"event_name"`
	Description string `json:"description"`
	VideoPath   string `json:"video_path"`
	SessionID   string `json:"session_id"`
}
