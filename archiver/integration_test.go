package archiver

import (
	"context"
	"testing"

	"github.com/vodarchiver/vodarchiver/ledger"
	"github.com/vodarchiver/vodarchiver/testutil"
	"github.com/vodarchiver/vodarchiver/twitchapi"
)

// End-to-end cycle against a mocked Helix API, exercising the real auth and
// listing code paths instead of a stub lister.
func TestRunCycleAgainstMockHelix(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockUserResponse("user-1", "testchannel")
	mock.MockVideosResponse([]map[string]string{
		testutil.Video("301", "Mocked Stream", "2024-03-01T12:00:00Z", "2h15m0s"),
	}, "")

	helix := &twitchapi.HelixClient{
		TokenSource: &twitchapi.TokenSource{
			ClientID:     "cid",
			ClientSecret: "secret",
			AuthURL:      mock.URL + "/oauth2/token",
		},
		ClientID: "cid",
		APIBase:  mock.URL + "/helix",
	}

	dl := newFakeDownloader(t)
	up := newFakeUploader()
	store := testStore(t)
	p := New(testConfig(t), store, helix, dl, up)

	sum, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if sum.Discovered != 1 || sum.Uploaded != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	rec, ok, err := store.Get(context.Background(), "301")
	if err != nil || !ok {
		t.Fatalf("record missing: ok=%v err=%v", ok, err)
	}
	if rec.Status != ledger.StatusUploaded {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.Duration != 8100 {
		t.Fatalf("duration = %d, want 8100", rec.Duration)
	}
	if rec.URL != "https://www.twitch.tv/videos/301" {
		t.Fatalf("url = %q", rec.URL)
	}
}
