package model

import "time"

// DriveCredentials represents the workstation's Drive authorization stored in DynamoDB.
type DriveCredentials struct {
	WorkstationID         string    `json:"workstation_id" dynamodbav:"workstation_id"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	BaseFolderID          string    `json:"base_folder_id" dynamodbav:"base_folder_id"` // Managed folder on the drive
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// FileLock represents an active lock on a managed-drive file.
type FileLock struct {
	FileID     string `json:"file_id" dynamodbav:"file_id"`
	Owner      string `json:"owner" dynamodbav:"owner"`           // workstation ID holding the lock
	OwnerName  string `json:"owner_name" dynamodbav:"owner_name"` // display name for conflict dialogs
	AcquiredAt int64  `json:"acquired_at" dynamodbav:"acquired_at"`
	ExpiresAt  int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// LockedSince returns the acquisition time of the lock.
func (l *FileLock) LockedSince() time.Time {
	return time.Unix(l.AcquiredAt, 0)
}

// FileEntry represents metadata about a file on the managed drive.
type FileEntry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
}
