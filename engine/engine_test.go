package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geomesh/core"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) Response {
	t.Helper()

	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				r := resp
				final = &r
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				t.Fatalf("unexpected engine error: %v", err)
			}
		}
	}

	require.NotNil(t, final)
	return *final
}

func userContent(text string) core.Content {
	return core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: text}}}
}

func TestMock_CannedResponse(t *testing.T) {
	mock := NewMock("test")
	mock.AddResponse("Where is Chengdu?", "In Sichuan")

	respCh, errCh := mock.Generate(context.Background(), Request{
		Contents: []core.Content{userContent("Where is Chengdu?")},
	})
	resp := collect(t, respCh, errCh)
	assert.Equal(t, "In Sichuan", resp.Content.Text())
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestMock_FallbackResponse(t *testing.T) {
	mock := NewMock("test")

	respCh, errCh := mock.Generate(context.Background(), Request{
		Contents: []core.Content{userContent("anything")},
	})
	resp := collect(t, respCh, errCh)
	assert.Equal(t, "Mock response to: anything", resp.Content.Text())
}

func TestMock_ScriptPrecedence(t *testing.T) {
	mock := NewMock("test")
	mock.AddResponse("input", "canned")
	mock.EnqueueText("scripted first")
	mock.EnqueueCall("geocode", `{"address":"Tianfu Square"}`)

	req := Request{Contents: []core.Content{userContent("input")}}

	respCh, errCh := mock.Generate(context.Background(), req)
	resp := collect(t, respCh, errCh)
	assert.Equal(t, "scripted first", resp.Content.Text())

	respCh, errCh = mock.Generate(context.Background(), req)
	resp = collect(t, respCh, errCh)
	require.Len(t, resp.Content.Parts, 1)
	callPart, ok := resp.Content.Parts[0].(core.CapabilityCallPart)
	require.True(t, ok)
	assert.Equal(t, "geocode", callPart.CapabilityCall.Name)
	assert.Equal(t, `{"address":"Tianfu Square"}`, callPart.CapabilityCall.Arguments)

	// Script exhausted: fall back to the canned response.
	respCh, errCh = mock.Generate(context.Background(), req)
	resp = collect(t, respCh, errCh)
	assert.Equal(t, "canned", resp.Content.Text())
}

func TestMock_NoContents(t *testing.T) {
	mock := NewMock("test")

	respCh, errCh := mock.Generate(context.Background(), Request{})

	var gotErr error
	for respCh != nil || errCh != nil {
		select {
		case _, ok := <-respCh:
			if !ok {
				respCh = nil
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			gotErr = err
		}
	}
	assert.Error(t, gotErr)
}

func TestMock_Info(t *testing.T) {
	mock := NewMock("geomesh-test")

	info := mock.Info()
	assert.Equal(t, "geomesh-test", info.Name)
	assert.Equal(t, "mock", info.Provider)
	assert.True(t, info.SupportsCapabilities)
}
