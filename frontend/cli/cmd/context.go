package cmd

import (
	"context"

	"github.com/spf13/afero"

	"github.com/Waridley/crumbeez/shared"
)

type contextKey string

const (
	ContextKeyFileSystem      contextKey = "filesystem"
	ContextKeyUserInfo        contextKey = "userinfo"
	ContextKeyGlobalOptions   contextKey = "globaloptions"
	ContextKeyDisableFileLogs contextKey = "disablefilelogs"
)

func getFileSystem(ctx context.Context) *afero.Afero {
	if fs, ok := ctx.Value(ContextKeyFileSystem).(*afero.Afero); ok {
		return fs
	}
	return &afero.Afero{Fs: afero.NewOsFs()}
}

func getUserInfo(ctx context.Context) shared.UserInfo {
	if userInfo, ok := ctx.Value(ContextKeyUserInfo).(shared.UserInfo); ok {
		return userInfo
	}
	return shared.NewDefaultUserInfo(getFileSystem(ctx))
}

func setGlobalOptions(ctx context.Context, options *globalOptions) context.Context {
	return context.WithValue(ctx, ContextKeyGlobalOptions, options)
}

func getGlobalOptions(ctx context.Context) *globalOptions {
	if options, ok := ctx.Value(ContextKeyGlobalOptions).(*globalOptions); ok {
		return options
	}
	return &globalOptions{}
}
