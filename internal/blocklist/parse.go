package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseList reads a blocklist in hosts-file, plain-domain or simple adblock
// ("||domain^") format and returns the raw domain strings. Entries are not
// validated here; the builder normalizes them.
func ParseList(r io.Reader) ([]string, error) {
	var domains []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if idx := strings.Index(line, "#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}

		// Adblock network rule: ||ads.example.com^
		if strings.HasPrefix(line, "||") {
			line = strings.TrimPrefix(line, "||")
			if idx := strings.IndexAny(line, "^$/"); idx != -1 {
				line = line[:idx]
			}
			if line != "" {
				domains = append(domains, line)
			}
			continue
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		// Hosts format: IP domain [domain2...]
		candidates := parts
		if len(parts) >= 2 {
			candidates = parts[1:]
		}
		for _, d := range candidates {
			if isLocalhost(d) {
				continue
			}
			domains = append(domains, d)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading blocklist: %w", err)
	}
	return domains, nil
}

func isLocalhost(d string) bool {
	switch strings.ToLower(d) {
	case "localhost", "localhost.localdomain", "local", "broadcasthost", "ip6-localhost", "ip6-loopback":
		return true
	}
	return false
}
