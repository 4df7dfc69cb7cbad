// internal/integrations/sanity/types.go
package sanity

// Mutation to jeden wpis tablicy "mutations" API content store.
type Mutation map[string]any

func CreateOrReplace(doc any) Mutation { return Mutation{"createOrReplace": doc} }
func Delete(id string) Mutation        { return Mutation{"delete": map[string]string{"id": id}} }

func Patch(id string, set map[string]any) Mutation {
	return Mutation{"patch": map[string]any{"id": id, "set": set}}
}

type MutateResult struct {
	TransactionID string `json:"transactionId"`
	Results       []struct {
		ID        string `json:"id"`
		Operation string `json:"operation"` // create/update/delete
	} `json:"results"`
}
