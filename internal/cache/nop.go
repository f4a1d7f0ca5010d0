package cache

import (
	"context"
	"time"
)

// Nop кэш без хранения, используется когда Redis не настроен
type Nop struct{}

func (Nop) Get(context.Context, string, interface{}) (bool, error) {
	return false, nil
}

func (Nop) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (Nop) Delete(context.Context, ...string) error {
	return nil
}

func (Nop) DeletePrefix(context.Context, string) error {
	return nil
}

func (Nop) Ping(context.Context) error {
	return nil
}
