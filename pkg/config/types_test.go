package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("weather-api"))
	assert.True(t, ValidIdentifier("weather_api_2"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("Weather-API"))
	assert.False(t, ValidIdentifier("weather api"))
}

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		server  ServerConfig
		wantErr bool
	}{
		{"http needs url", ServerConfig{Identifier: "s1", Transport: TransportHTTP}, true},
		{"http with url ok", ServerConfig{Identifier: "s1", Transport: TransportHTTP, URL: "http://x"}, false},
		{"stdio needs command", ServerConfig{Identifier: "s1", Transport: TransportStdio}, true},
		{"stdio with command ok", ServerConfig{Identifier: "s1", Transport: TransportStdio, Command: "./run"}, false},
		{"bad identifier", ServerConfig{Identifier: "Bad Id", Transport: TransportHTTP, URL: "http://x"}, true},
		{"unknown transport", ServerConfig{Identifier: "s1", Transport: "carrier-pigeon"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.server.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAgentConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		agent   AgentConfig
		wantErr bool
	}{
		{"http needs url", AgentConfig{Identifier: "a1", Transport: TransportHTTP}, true},
		{"direct needs nothing", AgentConfig{Identifier: "a1", Transport: TransportDirect}, false},
		{"stdio needs command", AgentConfig{Identifier: "a1", Transport: TransportStdio}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.agent.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJwtAuthConfigMode(t *testing.T) {
	static := &JwtAuthConfig{Token: "abc"}
	assert.True(t, static.IsStatic())
	assert.False(t, static.IsOAuth2())

	oauth := &JwtAuthConfig{TokenURL: "https://idp/token", ClientID: "c", ClientSecret: "s"}
	assert.True(t, oauth.IsOAuth2())
	assert.False(t, oauth.IsStatic())
}
