package database

import (
	"fmt"
)

// DigestSettings is a user's daily digest preference.
type DigestSettings struct {
	ChatID  int64
	Enabled bool
	Time    string // "HH:MM", UTC
}

// GetUserLanguage returns the stored language for a chat, or the fallback
// when the chat has never set one.
func GetUserLanguage(chatID int64, fallback string) string {
	var lang string
	err := DB.QueryRow(`SELECT language FROM users WHERE chat_id = ?;`, chatID).Scan(&lang)
	if err != nil {
		return fallback
	}
	return lang
}

// SetUserLanguage stores a chat's language preference.
func SetUserLanguage(chatID int64, language string) error {
	query := `
	INSERT INTO users (chat_id, language) VALUES (?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET language = excluded.language;`
	_, err := DB.Exec(query, chatID, language)
	if err != nil {
		return fmt.Errorf("failed to set user language: %w", err)
	}
	return nil
}

// GetDigestSettings returns the digest preference for a chat. A chat without
// a row gets the disabled default.
func GetDigestSettings(chatID int64) DigestSettings {
	s := DigestSettings{ChatID: chatID, Enabled: false, Time: "08:00"}
	var enabled int
	err := DB.QueryRow(`SELECT digest_enabled, digest_time FROM users WHERE chat_id = ?;`, chatID).
		Scan(&enabled, &s.Time)
	if err == nil {
		s.Enabled = enabled != 0
	}
	return s
}

// SetDigestSettings stores the digest preference for a chat.
func SetDigestSettings(s DigestSettings) error {
	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	query := `
	INSERT INTO users (chat_id, digest_enabled, digest_time) VALUES (?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET digest_enabled = excluded.digest_enabled, digest_time = excluded.digest_time;`
	_, err := DB.Exec(query, s.ChatID, enabled, s.Time)
	if err != nil {
		return fmt.Errorf("failed to set digest settings: %w", err)
	}
	return nil
}

// GetDigestUsers returns every chat with the digest enabled.
func GetDigestUsers() ([]DigestSettings, error) {
	rows, err := DB.Query(`SELECT chat_id, digest_time FROM users WHERE digest_enabled = 1;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest users: %w", err)
	}
	defer rows.Close()

	var users []DigestSettings
	for rows.Next() {
		s := DigestSettings{Enabled: true}
		if err := rows.Scan(&s.ChatID, &s.Time); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		users = append(users, s)
	}
	return users, rows.Err()
}
