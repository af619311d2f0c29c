package cache

import "github.com/ceyewan/fabric/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("cache: config is nil")

	// ErrLoaderNil 加载函数为空
	ErrLoaderNil = xerrors.New("cache: loader is nil")
)
