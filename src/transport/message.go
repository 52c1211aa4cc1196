package transport

// Inbound message types.
const (
	TypeInitiateIsolation   = "INITIATE_FILE_ISOLATION"
	TypeFileActionDecision  = "FILE_ACTION_DECISION"
	TypeUpdateIsolationPath = "UPDATE_ISOLATION_PATH"
)

// Outbound message types.
const (
	TypeIsolationStatus           = "ISOLATION_STATUS"
	TypeActionDecisionStatus      = "ACTION_DECISION_STATUS"
	TypeUpdateIsolationPathStatus = "UPDATE_ISOLATION_PATH_STATUS"
	TypeScanResult                = "SCAN_RESULT"
)

// Outbound status values. Isolation replies use successful/failed, the
// other replies use success/failed.
const (
	StatusSuccessful   = "successful"
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusUnrecognized = "unrecognized_message"
)

// Message is a decoded inbound frame.
type Message map[string]any

// Type returns the message's "type" field, or "" when absent.
func (m Message) Type() string {
	return m.String("type", "")
}

// String returns the string field key, or def when the field is missing
// or not a string.
func (m Message) String(key, def string) string {
	v, ok := m[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// IsolationStatus answers INITIATE_FILE_ISOLATION.
type IsolationStatus struct {
	Type                   string `json:"type"`
	Status                 string `json:"status"`
	Details                string `json:"details"`
	Filename               string `json:"filename"`
	OriginalDownloadPath   string `json:"originalDownloadPath"`
	IsolatedPath           string `json:"isolatedPath"`
	RequestedIsolationPath string `json:"requestedIsolationPath"`
	NotificationID         string `json:"notificationId"`
}

// ActionDecisionStatus answers FILE_ACTION_DECISION.
type ActionDecisionStatus struct {
	Type            string `json:"type"`
	Status          string `json:"status"`
	Details         string `json:"details"`
	NotificationID  string `json:"notificationId"`
	ActionPerformed string `json:"actionPerformed"`
	RestoredPath    string `json:"restoredPath,omitempty"`
}

// UpdateIsolationPathStatus answers UPDATE_ISOLATION_PATH.
type UpdateIsolationPathStatus struct {
	Type             string `json:"type"`
	Status           string `json:"status"`
	Details          string `json:"details"`
	RequestedOldPath string `json:"requestedOldPath"`
	RequestedNewPath string `json:"requestedNewPath"`
	ResolvedOldPath  string `json:"resolvedOldPath,omitempty"`
	ResolvedNewPath  string `json:"resolvedNewPath,omitempty"`
	MovedCount       *int   `json:"movedCount,omitempty"`
}

// ScanResult reports scan progress and the final verdict for one file.
type ScanResult struct {
	Type                 string `json:"type"`
	Status               string `json:"status"`
	Details              string `json:"details"`
	Filename             string `json:"filename"`
	OriginalDownloadPath string `json:"originalDownloadPath"`
	IsolatedPath         string `json:"isolatedPath"`
	NotificationID       string `json:"notificationId"`
	JobID                string `json:"jobId,omitempty"`
}

// Unrecognized echoes a message the host does not understand.
type Unrecognized struct {
	Status          string  `json:"status"`
	OriginalMessage Message `json:"original_message"`
}
