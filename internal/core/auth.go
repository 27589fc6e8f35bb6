package core

import (
	"context"

	"golang.org/x/oauth2"
)

// CredentialRebinder re-binds a job's opaque ownerToken — loaded from the job cache, possibly on
// a different replica than the one that originally admitted the job — to a usable
// oauth2.TokenSource before a MetadataClient or ExecutorClient call is made on the job owner's
// behalf. See the "Credentials in state" design note: ownerToken rides in JobState precisely
// because any replica may need to resume the job.
type CredentialRebinder interface {
	Rebind(ctx context.Context, ownerToken string) (oauth2.TokenSource, error)
}
