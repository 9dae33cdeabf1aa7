// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package prolific

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the production Prolific API endpoint.
const DefaultBaseURL = "https://api.prolific.com"

// Submission status reported by Prolific for a participant's session.
const (
	SubmissionAwaitingReview = "AWAITING_REVIEW"
	SubmissionApproved       = "APPROVED"
	SubmissionRejected       = "REJECTED"
	SubmissionReturned       = "RETURNED"
)

type Client struct {
	BaseURL  string
	APIToken string
	Client   *http.Client
}

// NewClient builds a Prolific API client. An empty baseURL selects the
// production endpoint.
func NewClient(apiToken, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:  baseURL,
		APIToken: apiToken,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether the client has credentials to talk to the
// platform. Platform calls are skipped entirely when unconfigured.
func (c *Client) Configured() bool {
	return c != nil && c.APIToken != ""
}

type Study struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Status               string `json:"status"`
	ExternalStudyURL     string `json:"external_study_url"`
	TotalAvailablePlaces int    `json:"total_available_places"`
	CompletionCode       string `json:"completion_code"`
}

type StudySubmission struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	Status        string `json:"status"`
	StudyCode     string `json:"study_code"`
}

type CreateStudyRequest struct {
	Name                    string `json:"name"`
	Description             string `json:"description"`
	ExternalStudyURL        string `json:"external_study_url"`
	EstimatedCompletionTime int    `json:"estimated_completion_time"`
	Reward                  int    `json:"reward"`
	TotalAvailablePlaces    int    `json:"total_available_places"`
	CompletionCode          string `json:"completion_code,omitempty"`
}

type transitionRequest struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}

type submissionList struct {
	Results []StudySubmission `json:"results"`
}

// CreateStudy creates a new draft study on Prolific.
func (c *Client) CreateStudy(req CreateStudyRequest) (*Study, error) {
	var study Study
	if err := c.do("POST", "/api/v1/studies/", req, &study); err != nil {
		return nil, fmt.Errorf("create study: %w", err)
	}
	return &study, nil
}

// GetStudy fetches study details, including the platform-side status.
func (c *Client) GetStudy(studyID string) (*Study, error) {
	var study Study
	if err := c.do("GET", "/api/v1/studies/"+studyID+"/", nil, &study); err != nil {
		return nil, fmt.Errorf("get study %s: %w", studyID, err)
	}
	return &study, nil
}

// PublishStudy moves a draft study live.
func (c *Client) PublishStudy(studyID string) (*Study, error) {
	var study Study
	req := transitionRequest{Action: "PUBLISH"}
	if err := c.do("POST", "/api/v1/studies/"+studyID+"/transition/", req, &study); err != nil {
		return nil, fmt.Errorf("publish study %s: %w", studyID, err)
	}
	return &study, nil
}

// ListSubmissions returns all participant submissions for a study.
func (c *Client) ListSubmissions(studyID string) ([]StudySubmission, error) {
	var list submissionList
	if err := c.do("GET", "/api/v1/studies/"+studyID+"/submissions/", nil, &list); err != nil {
		return nil, fmt.Errorf("list submissions for study %s: %w", studyID, err)
	}
	return list.Results, nil
}

// ApproveSubmission approves a participant's submission.
func (c *Client) ApproveSubmission(submissionID string) error {
	req := transitionRequest{Action: "APPROVE"}
	if err := c.do("POST", "/api/v1/submissions/"+submissionID+"/transition/", req, nil); err != nil {
		return fmt.Errorf("approve submission %s: %w", submissionID, err)
	}
	return nil
}

// RejectSubmission rejects a participant's submission with a reason.
func (c *Client) RejectSubmission(submissionID, message string) error {
	req := transitionRequest{Action: "REJECT", Message: message}
	if err := c.do("POST", "/api/v1/submissions/"+submissionID+"/transition/", req, nil); err != nil {
		return fmt.Errorf("reject submission %s: %w", submissionID, err)
	}
	return nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("prolific API returned %d: %s", resp.StatusCode, string(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
