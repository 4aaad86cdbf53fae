package solid

import (
	"context"

	"transfer"
)

// Gateway bundles the session and pod client behind one surface. Every pod
// operation resolves the authenticated client from the current session, so a
// logged out session fails with ErrNotLoggedIn instead of an anonymous call.
type Gateway struct {
	session *Session
}

func NewGateway(session *Session) *Gateway {
	return &Gateway{session: session}
}

func (g *Gateway) LoggedIn() bool {
	return g.session.LoggedIn()
}

func (g *Gateway) AuthorizationURL() (string, error) {
	return g.session.AuthorizationURL()
}

func (g *Gateway) PodOrigin() (string, error) {
	return g.session.PodOrigin()
}

func (g *Gateway) Logout() {
	g.session.Logout()
}

func (g *Gateway) Append(ctx context.Context, url, data string) error {
	pod, err := g.pod(ctx)
	if err != nil {
		return err
	}
	return pod.Append(ctx, url, data)
}

func (g *Gateway) Put(ctx context.Context, url, contentType, content string) error {
	pod, err := g.pod(ctx)
	if err != nil {
		return err
	}
	return pod.Put(ctx, url, contentType, content)
}

func (g *Gateway) Read(ctx context.Context, url string) (string, error) {
	pod, err := g.pod(ctx)
	if err != nil {
		return "", err
	}
	return pod.Read(ctx, url)
}

func (g *Gateway) Clear(ctx context.Context, url string) error {
	pod, err := g.pod(ctx)
	if err != nil {
		return err
	}
	return pod.Clear(ctx, url)
}

func (g *Gateway) pod(ctx context.Context) (*Pod, error) {
	client, err := g.session.Client(ctx)
	if err != nil {
		return nil, err
	}
	return NewPod(client, transfer.Logger), nil
}
