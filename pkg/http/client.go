package http

import (
	"net/http"
)

const UserAgentHeader = "User-Agent"

func ProvideHTTPClient() *http.Client {
	return &http.Client{
		Transport: &Transport{
			headers: map[string]string{
				UserAgentHeader: UserAgent(),
			},
		},
	}
}
