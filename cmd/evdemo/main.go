// evdemo 演示 evbase 的几种用法：原始事件、BufferEvent、命名定时器和 TCP echo。
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "evdemo:", err)
		os.Exit(1)
	}
}
