package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestK8sSource_PeersExcludesSelfAndUsesServicePort(t *testing.T) {
	endpoints := &corev1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Name: "shard", Namespace: "search"},
		Subsets: []corev1.EndpointSubset{
			{
				Addresses: []corev1.EndpointAddress{
					{IP: "10.0.0.1"},
					{IP: "10.0.0.2"},
					{IP: "10.0.0.3"},
				},
				Ports: []corev1.EndpointPort{{Port: 8983}},
			},
		},
	}
	clientset := fake.NewSimpleClientset(endpoints)

	src := NewK8sSourceFromClientset(clientset, Config{
		Namespace:   "search",
		ServiceName: "shard",
	}, "http://10.0.0.2:8983", nil)

	peers, err := src.Peers(context.Background())

	require.NoError(t, err)
	require.ElementsMatch(t, []string{"http://10.0.0.1:8983", "http://10.0.0.3:8983"}, peers)
}

func TestK8sSource_PeersErrorsWhenServiceMissing(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	src := NewK8sSourceFromClientset(clientset, Config{Namespace: "search", ServiceName: "missing"}, "", nil)

	_, err := src.Peers(context.Background())
	require.Error(t, err)
}

func TestStaticSource_ReturnsConfiguredAddrs(t *testing.T) {
	src := StaticSource{Addrs: []string{"http://a", "http://b"}}
	peers, err := src.Peers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"http://a", "http://b"}, peers)
}
