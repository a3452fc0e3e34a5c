//go:build !linux

package bridge

func Inspect(name string) (Link, error) {
	return Link{Name: name}, ErrUnsupported
}
