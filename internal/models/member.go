package models

import (
	"fmt"
	"time"
)

// Member — участник, глобальный для всех сообществ.
// EncryptedDOB хранит только шифротекст даты рождения.
type Member struct {
	ID            string     `json:"member_id"`
	Verified      bool       `json:"verified"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	EncryptedDOB  string     `json:"-"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
}

// DateOfBirth — дата рождения, подтвержденная провайдером.
type DateOfBirth struct {
	Year  int
	Month time.Month
	Day   int
}

const dobLayout = "2006-01-02"

// ParseDateOfBirth разбирает дату в формате YYYY-MM-DD.
func ParseDateOfBirth(s string) (DateOfBirth, error) {
	t, err := time.Parse(dobLayout, s)
	if err != nil {
		return DateOfBirth{}, fmt.Errorf("models.ParseDateOfBirth: %w", err)
	}
	return DateOfBirth{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// String возвращает дату в формате YYYY-MM-DD.
func (d DateOfBirth) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero сообщает, что дата не задана.
func (d DateOfBirth) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// AgeOn возвращает полное число лет на момент now.
func (d DateOfBirth) AgeOn(now time.Time) int {
	age := now.Year() - d.Year
	if now.Month() < d.Month || (now.Month() == d.Month && now.Day() < d.Day) {
		age--
	}
	return max(age, 0)
}
