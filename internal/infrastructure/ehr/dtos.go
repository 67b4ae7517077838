package ehr

// DispatchRequest is the body posted to the EHR middleware for a new request.
type DispatchRequest struct {
	RequestID          string `json:"requestId"`
	URI                string `json:"uri"`
	CitizenID          string `json:"citizenId"`
	PreferredLanguages string `json:"preferredLanguages,omitempty"`
}

type ErrorResponse struct {
	Err     string `json:"error"`
	Message string `json:"message"`
}
