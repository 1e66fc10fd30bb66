package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	ModeSTUNTURN = "stun-turn"
	ModeTURNOnly = "turn-only"
	ModeSTUNOnly = "stun-only"

	defaultTURNTTL = 24 * time.Hour
)

var defaultSTUN = []string{"stun:stun.l.google.com:19302"}

// Config lists the STUN/TURN servers advertised to clients.
//
// Mode is stun-turn (default), turn-only or stun-only. With TURNSecret set,
// TURN credentials are minted per session (TURN REST, coturn
// use-auth-secret) instead of using TURNUsername/TURNPassword.
type Config struct {
	Mode         string
	STUNURLs     []string
	TURNURLs     []string
	TURNUsername string
	TURNPassword string
	TURNSecret   string
	TURNTTL      time.Duration
}

// Provider builds the ICE server list handed to clients.
type Provider struct {
	mode     string
	stun     []string
	turn     []string
	username string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewProvider(cfg Config, logger *zerolog.Logger) *Provider {
	l := log.Logger
	if logger != nil {
		l = *logger
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case ModeTURNOnly, ModeSTUNOnly:
	default:
		mode = ModeSTUNTURN
	}
	p := &Provider{
		mode:     mode,
		stun:     splitAndClean(cfg.STUNURLs),
		turn:     splitAndClean(cfg.TURNURLs),
		username: strings.TrimSpace(cfg.TURNUsername),
		password: strings.TrimSpace(cfg.TURNPassword),
		secret:   []byte(cfg.TURNSecret),
		ttl:      cfg.TURNTTL,
		now:      time.Now,
	}
	if p.ttl <= 0 {
		p.ttl = defaultTURNTTL
	}
	if len(p.stun) == 0 {
		p.stun = defaultSTUN
	}

	if len(p.turn) == 0 && mode != ModeSTUNOnly {
		if mode == ModeTURNOnly {
			l.Warn().Msg("ICE_MODE=turn-only set but no TURN servers are configured; falling back to default STUN")
		} else {
			l.Info().Msg("TURN not configured; set TURN_URLS and credentials for relay fallback")
		}
	}
	l.Info().Str("mode", mode).Strs("stun", p.stun).Strs("turn", p.turn).Bool("turn_rest", len(p.secret) > 0).Msg("ICE servers loaded")
	return p
}

func (p *Provider) Mode() string {
	return p.mode
}

// Servers returns the ICE servers for one session. sessionID only matters
// when TURN credentials are minted.
func (p *Provider) Servers(sessionID string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	turnOnly := p.mode == ModeTURNOnly
	if !turnOnly || len(p.turn) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: p.stun})
	}
	if p.mode != ModeSTUNOnly && len(p.turn) > 0 {
		username, credential := p.username, p.password
		if len(p.secret) > 0 {
			username, credential = p.credentials(sessionID)
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:           p.turn,
			Username:       username,
			Credential:     credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

// credentials follows the TURN REST scheme:
//
//	username   = <expiry unix>:<session>
//	credential = base64(hmac_sha1(secret, username))
func (p *Provider) credentials(sessionID string) (string, string) {
	expiry := p.now().UTC().Add(p.ttl).Unix()
	username := fmt.Sprintf("%d", expiry)
	if s := strings.ReplaceAll(sessionID, ":", ""); s != "" {
		username += ":" + s
	}
	mac := hmac.New(sha1.New, p.secret)
	_, _ = mac.Write([]byte(username))
	return username, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func splitAndClean(values []string) []string {
	var out []string
	for _, csv := range values {
		for _, p := range strings.Split(csv, ",") {
			v := strings.TrimSpace(p)
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
