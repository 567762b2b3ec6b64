package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// UserSummary mirrors the handful of OSF v2 user-resource attributes needed
// to resolve an account's project list.
type UserSummary struct {
	ID       string
	FullName string
}

type userListResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			FullName string `json:"full_name"`
		} `json:"attributes"`
	} `json:"data"`
}

// FindUser looks up a user by display name via GET /users/?filter[full_name]
// and returns the first match. Unlike the project/file endpoints this does
// not require an authenticated session: a zero-value token is simply
// omitted from the request.
func (s *Session) FindUser(ctx context.Context, fullName string) (UserSummary, error) {
	reqURL := s.baseURL + "/users/?filter[full_name]=" + url.QueryEscape(fullName)

	var resp userListResponse
	if err := s.DoJSON(ctx, http.MethodGet, reqURL, nil, true, &resp); err != nil {
		return UserSummary{}, fmt.Errorf("remote: finding user %q: %w", fullName, err)
	}

	if len(resp.Data) == 0 {
		return UserSummary{}, fmt.Errorf("remote: no user found matching %q", fullName)
	}

	return UserSummary{ID: resp.Data[0].ID, FullName: resp.Data[0].Attributes.FullName}, nil
}

// ProjectSummary mirrors one entry of a user's top-level project listing.
type ProjectSummary struct {
	ID    string
	Title string
}

type projectListResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Title string `json:"title"`
		} `json:"attributes"`
	} `json:"data"`
}

// ListUserProjects returns the top-level (category=project) nodes owned by
// userID, so a user can find the project_id to put in their project file.
func (s *Session) ListUserProjects(ctx context.Context, userID string) ([]ProjectSummary, error) {
	reqURL := s.baseURL + "/users/" + url.PathEscape(userID) + "/nodes/?filter[category]=project"

	var resp projectListResponse
	if err := s.DoJSON(ctx, http.MethodGet, reqURL, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("remote: listing projects for user %q: %w", userID, err)
	}

	out := make([]ProjectSummary, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = ProjectSummary{ID: d.ID, Title: d.Attributes.Title}
	}

	return out, nil
}
