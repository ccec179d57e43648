package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// CookieName — cookie с идентификаторами предложений анонимной корзины.
	CookieName   = "cart_items"
	cookiePath   = "/"
	cookieMaxAge = 30 * 24 * time.Hour
)

// ReadAnonymous читает идентификаторы предложений из cookie запроса.
// Принимает JSON-массив строк или чисел; повреждённый cookie даёт пустую корзину.
func ReadAnonymous(r *http.Request) []string {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	raw, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return nil
	}

	var values []any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}

	ids := make([]string, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case string:
			ids = append(ids, v)
		case float64:
			ids = append(ids, strconv.FormatInt(int64(v), 10))
		}
	}
	return ids
}

// LoadAnonymous привязывает к сессии анонимную корзину из cookie и читает цены позиций.
func (s *Session) LoadAnonymous(ctx context.Context, r *http.Request) *AnonymousCart {
	anon := s.UseAnonymous(ReadAnonymous(r))
	anon.resolve(ctx)
	return anon
}

// WriteCookie сохраняет состав корзины в cookie ответа. Пустая корзина стирает cookie.
func (c *AnonymousCart) WriteCookie(w http.ResponseWriter) {
	now := c.session.svc.now()
	if len(c.instanceIDs) == 0 {
		http.SetCookie(w, &http.Cookie{
			Name:    CookieName,
			Value:   "",
			Path:    cookiePath,
			Expires: now,
			MaxAge:  -1,
		})
		return
	}

	data, err := json.Marshal(c.instanceIDs)
	if err != nil {
		c.session.svc.logger.WithError(err).Warn("encode cart cookie failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    url.QueryEscape(string(data)),
		Path:     cookiePath,
		Expires:  now.Add(cookieMaxAge),
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
