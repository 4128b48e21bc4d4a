package modbus

import "context"

// mutex behaves similar to the sync.Mutex, with the following differences:
// 	1. the mutex needs to be initialized by sending a struct{} into it
//	2. a lock attempt can be canceled by the given context
type mutex chan struct{}

func (mu mutex) lock(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mu:
		return nil
	}
}

func (mu mutex) unlock() {
	mu <- struct{}{}
}
