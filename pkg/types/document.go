package types

import "time"

// RequestDocument is a prescription uploaded in support of a blood request.
type RequestDocument struct {
	ID            string    `db:"id" json:"id"`
	RequestID     string    `db:"request_id" json:"requestId"`
	UserID        string    `db:"user_id" json:"userId"`
	FileName      string    `db:"file_name" json:"fileName"`
	FileSizeBytes int64     `db:"file_size_bytes" json:"fileSizeBytes"`
	MimeType      string    `db:"mime_type" json:"mimeType"`
	StorageKey    string    `db:"storage_key" json:"storageKey"`
	UploadedAt    time.Time `db:"uploaded_at" json:"uploadedAt"`
}

const MaxPrescriptionBytes = 10 << 20

var AllowedPrescriptionTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
}
