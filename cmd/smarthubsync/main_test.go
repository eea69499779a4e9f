package main

import (
	"context"
	"errors"
	"testing"

	"github.com/smarthubsync/smarthubsync/pkg/storage/storagemock"
	"github.com/smarthubsync/smarthubsync/pkg/types"
	"github.com/stretchr/testify/assert"
)

type fakeClient struct {
	authErr error
	closed  bool
}

func (f *fakeClient) Authenticate(ctx context.Context) (types.Credential, error) {
	if f.authErr != nil {
		return types.Credential{}, f.authErr
	}
	return types.Credential{Token: "token"}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

type fakePublisher struct {
	closed bool
}

func (f *fakePublisher) Close() {
	f.closed = true
}

type fakeRunner struct {
	err error
	ran bool
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.ran = true
	return f.err
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name    string
		authErr error
		runErr  error
		wantRun bool
		code    int
	}{
		{name: "Clean", wantRun: true, code: 0},
		{name: "AuthenticationFailed", authErr: errors.New("invalid credentials"), code: 1},
		{name: "ServerFailed", runErr: errors.New("address in use"), wantRun: true, code: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{authErr: tc.authErr}
			pub := &fakePublisher{}
			srv := &fakeRunner{err: tc.runErr}
			db := &storagemock.MockDatabase{}
			db.On("Close").Return(nil).Once()

			assert.Equal(t, tc.code, run(client, db, pub, srv))
			assert.Equal(t, tc.wantRun, srv.ran)
			assert.True(t, client.closed, "client should be closed")
			assert.True(t, pub.closed, "publisher should be closed")
			db.AssertExpectations(t)
		})
	}
}
