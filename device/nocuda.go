//go:build !cuda

package device

func gpus() []GPU {
	return nil
}
