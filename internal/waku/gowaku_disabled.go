//go:build !real_waku

package waku

func newGoWakuBackend(*Metrics) backend {
	return nil
}
