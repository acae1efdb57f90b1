package api

import "fmt"

type HaulAPIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *HaulAPIError) Error() string {
	return fmt.Sprintf("haul api error: code=%s, message=%s", e.Code, e.Message)
}
