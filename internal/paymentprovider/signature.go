package paymentprovider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance допустимое расхождение метки времени подписи с текущим временем.
const SignatureTolerance = 300 * time.Second

// SignatureHeader имя заголовка с подписью вебхука.
const SignatureHeader = "Stripe-Signature"

// VerifyWebhookSignature проверяет заголовок вида t=<unix>,v1=<hex>[,v0=...]
// и возвращает разобранное событие. payload должен быть телом запроса без изменений.
func VerifyWebhookSignature(payload []byte, header, secret string) (Event, error) {
	return verifyAt(payload, header, secret, time.Now())
}

func verifyAt(payload []byte, header, secret string, now time.Time) (Event, error) {
	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return nil, err
	}

	// Сравнение в целых секундах: time.Duration переполняется на больших расхождениях.
	if ts <= 0 {
		return nil, fmt.Errorf("%w: t=%d", ErrSignatureTimestamp, ts)
	}
	tolerance := int64(SignatureTolerance / time.Second)
	skew := now.Unix() - ts
	if skew > tolerance || skew < -tolerance {
		return nil, fmt.Errorf("%w: %ds", ErrSignatureTimestamp, skew)
	}

	expected := ComputeSignature(ts, payload, secret)
	matched := false
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrSignatureMismatch
	}

	return ParseEvent(payload)
}

// ComputeSignature HMAC-SHA256 от "<t>.<payload>".
func ComputeSignature(ts int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		ts    int64
		hasTS bool
		sigs  [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", ErrSignatureMissing)
			}
			ts, hasTS = parsed, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if !hasTS {
		return 0, nil, fmt.Errorf("%w: t", ErrSignatureMissing)
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: v1", ErrSignatureMissing)
	}
	return ts, sigs, nil
}
