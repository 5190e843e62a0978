// Copyright (c) 2015-2021 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"fmt"
)

func Password(_ string) ([]byte, error) {
	return nil, fmt.Errorf("prompt not supported in WebAssembly")
}

func PassPrompt(_ string, _ bool) ([]byte, error) {
	return nil, fmt.Errorf("prompt not supported in WebAssembly")
}

func Hint(_ *bufio.Reader) (string, error) {
	return "", fmt.Errorf("prompt not supported in WebAssembly")
}

func Seed(_ *bufio.Reader) ([]byte, error) {
	return nil, fmt.Errorf("prompt not supported in WebAssembly")
}

func Setup(_ *bufio.Reader) ([]byte, []byte, string, error) {
	return nil, nil, "", fmt.Errorf("prompt not supported in WebAssembly")
}
